package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SeedsNavigationZero(t *testing.T) {
	s := New([]string{"network", "console"})
	out := s.BuildOutput(false)
	require.NotNil(t, out.Data)
	nav, ok := out.Data["navigation"].([]NavigationEvent)
	require.True(t, ok)
	require.Len(t, nav, 1)
	assert.Equal(t, 0, nav[0].ID)
	assert.Equal(t, "", nav[0].URL)
}

func TestAppend_PreservesOrder(t *testing.T) {
	s := New(nil)
	for i := 0; i < 5; i++ {
		s.AppendNetworkRequest(NetworkRequest{RequestID: string(rune('a' + i))})
	}
	for i := 0; i < 3; i++ {
		s.AppendConsoleMessage(ConsoleMessage{Text: string(rune('x' + i))})
	}

	out := s.BuildOutput(false)
	net := out.Data["network"].([]NetworkRequest)
	require.Len(t, net, 5)
	for i, r := range net {
		assert.Equal(t, string(rune('a'+i)), r.RequestID)
	}

	con := out.Data["console"].([]ConsoleMessage)
	require.Len(t, con, 3)
	for i, m := range con {
		assert.Equal(t, string(rune('x'+i)), m.Text)
	}
}

func TestBuildOutput_OmitsEmptyArrays(t *testing.T) {
	s := New(nil)
	// Clear the seeded navigation array to exercise the fully-empty case.
	s.ResetSessionStart()
	s.navigation = nil

	out := s.BuildOutput(false)
	assert.Nil(t, out.Data)
}

func TestBuildOutput_PartialMarker(t *testing.T) {
	s := New(nil)

	full := s.BuildOutput(false)
	assert.Nil(t, full.Partial)

	partial := s.BuildOutput(true)
	require.NotNil(t, partial.Partial)
	assert.True(t, *partial.Partial)
}

func TestBuildOutput_TargetAlwaysPresent(t *testing.T) {
	s := New(nil)
	out := s.BuildOutput(false)
	assert.Equal(t, TargetInfo{}, out.Target)

	s.SetTargetInfo(TargetInfo{ID: "t1", URL: "https://example.com"})
	out = s.BuildOutput(false)
	assert.Equal(t, "t1", out.Target.ID)
}

func TestUpdateNetworkRequest_MutatesInPlace(t *testing.T) {
	s := New(nil)
	s.AppendNetworkRequest(NetworkRequest{RequestID: "r1", Method: "GET"})

	ok := s.UpdateNetworkRequest("r1", func(r *NetworkRequest) {
		r.Status = 200
	})
	require.True(t, ok)

	r, found := s.NetworkByID("r1")
	require.True(t, found)
	assert.Equal(t, 200, r.Status)

	ok = s.UpdateNetworkRequest("missing", func(r *NetworkRequest) {})
	assert.False(t, ok)
}

func TestPeek_ClampsToAvailable(t *testing.T) {
	s := New(nil)
	for i := 0; i < 3; i++ {
		s.AppendNetworkRequest(NetworkRequest{RequestID: string(rune('a' + i))})
	}

	net, _ := s.Peek(10)
	assert.Len(t, net, 3)

	net, _ = s.Peek(2)
	require.Len(t, net, 2)
	assert.Equal(t, "b", net[0].RequestID)
	assert.Equal(t, "c", net[1].RequestID)
}

func TestConsoleByIndex_OutOfRange(t *testing.T) {
	s := New(nil)
	s.AppendConsoleMessage(ConsoleMessage{Text: "hi"})

	_, ok := s.ConsoleByIndex(5)
	assert.False(t, ok)
	_, ok = s.ConsoleByIndex(-1)
	assert.False(t, ok)

	msg, ok := s.ConsoleByIndex(0)
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Text)
}

func TestNavigationIDStampedOnRecords(t *testing.T) {
	s := New(nil)
	s.AppendNetworkRequest(NetworkRequest{RequestID: "before"})

	navID := s.AppendNavigation("https://example.com/page2")
	assert.Equal(t, 1, navID)

	s.SetNavigationResolver(func() int { return navID })
	s.AppendNetworkRequest(NetworkRequest{RequestID: "after"})

	before, _ := s.NetworkByID("before")
	after, _ := s.NetworkByID("after")
	assert.Equal(t, 0, before.NavigationID)
	assert.Equal(t, 1, after.NavigationID)
}
