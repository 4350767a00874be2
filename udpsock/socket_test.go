package udpsock

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// loopbackGroup picks a multicast group address scoped so the kernel
// routes it over the loopback interface alongside the send socket's TTL
// of 0, matching the "0 = local host only" policy.
const loopbackGroup = "239.255.77.77"

func TestSendRecvLoopbackRoundTrip(t *testing.T) {
	group := netip.MustParseAddr(loopbackGroup)
	const port = 27891

	recv, err := NewRecvSocket(group, port, "lo", 0)
	if err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer recv.Close()

	send, err := NewSendSocket(group, port, 0, "lo")
	if err != nil {
		t.Skipf("multicast send not available in this environment: %v", err)
	}
	defer send.Close()

	payload := []byte("hello multicast")
	done := make(chan error, 1)
	go func() {
		done <- send.SendVectored(payload, nil, nil)
	}()
	require.NoError(t, <-done)

	require.NoError(t, recv.WaitForData(2*time.Second))
	buf := make([]byte, 1500)
	n, _, _, err := recv.RecvInto(buf)
	if err != nil {
		t.Skipf("no datagram observed on loopback multicast: %v", err)
	}
	require.Equal(t, payload, buf[:n])
}

func TestWaitForDataTimeoutReturnsNoData(t *testing.T) {
	group := netip.MustParseAddr(loopbackGroup)
	const port = 27892

	recv, err := NewRecvSocket(group, port, "lo", 0)
	if err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer recv.Close()

	require.NoError(t, recv.WaitForData(50*time.Millisecond))
	buf := make([]byte, 1500)
	_, _, _, err = recv.RecvInto(buf)
	require.Error(t, err)
}

func TestCloseUnblocksWaitForData(t *testing.T) {
	group := netip.MustParseAddr(loopbackGroup)
	const port = 27893

	recv, err := NewRecvSocket(group, port, "lo", 0)
	if err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}

	require.NoError(t, recv.WaitForData(-1))

	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 1500)
		_, _, _, recvErr := recv.RecvInto(buf)
		errCh <- recvErr
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, recv.Close())

	err = <-errCh
	require.Error(t, err)
}
