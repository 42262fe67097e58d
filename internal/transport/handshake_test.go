package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
)

func mustKeyPair(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)
	return kp
}

func TestHandshakeEstablishesMatchingSessions(t *testing.T) {
	clientKP := mustKeyPair(t)
	serverKP := mustKeyPair(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	var clientSession, serverSession *Session
	var clientErr, serverErr error

	go func() {
		defer wg.Done()
		clientSession, clientErr = Handshake(clientConn, roleInitiator,
			core.PeerIdentity{PublicKey: clientKP.Public}, clientKP.Private, nil)
	}()
	go func() {
		defer wg.Done()
		serverSession, serverErr = Handshake(serverConn, roleResponder,
			core.PeerIdentity{PublicKey: serverKP.Public}, serverKP.Private, nil)
	}()
	wg.Wait()

	require.NoError(t, clientErr)
	require.NoError(t, serverErr)

	assert.True(t, clientSession.Remote.Equal(core.PeerIdentity{PublicKey: serverKP.Public}))
	assert.True(t, serverSession.Remote.Equal(core.PeerIdentity{PublicKey: clientKP.Public}))
	assert.Equal(t, clientSession.Disambiguator, serverSession.Disambiguator)
}

func TestHandshakeRejectsUntrustedRemote(t *testing.T) {
	clientKP := mustKeyPair(t)
	serverKP := mustKeyPair(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	var clientErr, serverErr error

	go func() {
		defer wg.Done()
		_, clientErr = Handshake(clientConn, roleInitiator,
			core.PeerIdentity{PublicKey: clientKP.Public}, clientKP.Private,
			func(crypto.PublicKey) bool { return false })
	}()
	go func() {
		defer wg.Done()
		_, serverErr = Handshake(serverConn, roleResponder,
			core.PeerIdentity{PublicKey: serverKP.Public}, serverKP.Private, nil)
	}()
	wg.Wait()

	assert.Error(t, clientErr)
}

func TestFrameRoundTripAfterHandshake(t *testing.T) {
	clientKP := mustKeyPair(t)
	serverKP := mustKeyPair(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	var clientSession, serverSession *Session

	go func() {
		defer wg.Done()
		clientSession, _ = Handshake(clientConn, roleInitiator,
			core.PeerIdentity{PublicKey: clientKP.Public}, clientKP.Private, nil)
	}()
	go func() {
		defer wg.Done()
		serverSession, _ = Handshake(serverConn, roleResponder,
			core.PeerIdentity{PublicKey: serverKP.Public}, serverKP.Private, nil)
	}()
	wg.Wait()
	require.NotNil(t, clientSession)
	require.NotNil(t, serverSession)

	clientWriter := newFrameWriter(clientConn, clientSession.send)
	serverReader := newFrameReader(serverConn, serverSession.recv)

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, clientWriter.WriteFrame([]byte("hello sumeragi")))
	}()

	got, err := serverReader.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "hello sumeragi", string(got))
	<-done
}

func TestConnDeliversApplicationFrame(t *testing.T) {
	clientKP := mustKeyPair(t)
	serverKP := mustKeyPair(t)

	clientConn, serverConn := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(2)
	var clientSession, serverSession *Session

	go func() {
		defer wg.Done()
		clientSession, _ = Handshake(clientConn, roleInitiator,
			core.PeerIdentity{PublicKey: clientKP.Public}, clientKP.Private, nil)
	}()
	go func() {
		defer wg.Done()
		serverSession, _ = Handshake(serverConn, roleResponder,
			core.PeerIdentity{PublicKey: serverKP.Public}, serverKP.Private, nil)
	}()
	wg.Wait()
	require.NotNil(t, clientSession)
	require.NotNil(t, serverSession)

	client := newConn("client", clientConn, clientSession, 50*time.Millisecond, nil, nil)
	server := newConn("server", serverConn, serverSession, 50*time.Millisecond, nil, nil)

	go func() { _ = client.Run() }()
	go func() { _ = server.Run() }()
	defer client.Close()
	defer server.Close()

	require.NoError(t, client.Send([]byte("ping-app")))
	select {
	case got := <-server.Inbound():
		assert.Equal(t, "ping-app", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for application frame")
	}
}
