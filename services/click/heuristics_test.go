package click

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateHeuristics_BotUserAgent(t *testing.T) {
	result := evaluateHeuristics("198.51.100.9", "python-requests/2.31.0")
	require.True(t, result.IsBot)
	require.Contains(t, result.Signals, "bot_user_agent")
	require.GreaterOrEqual(t, result.Score, 40)
}

func TestEvaluateHeuristics_MissingUserAgent(t *testing.T) {
	result := evaluateHeuristics("198.51.100.9", "")
	require.True(t, result.IsBot)
	require.Contains(t, result.Signals, "missing_user_agent")
}

func TestEvaluateHeuristics_DatacenterPrefixRaisesScoreOnly(t *testing.T) {
	result := evaluateHeuristics("52.10.20.30", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	require.False(t, result.IsBot)
	require.Contains(t, result.Signals, "datacenter_ip_prefix")
	require.Equal(t, 25, result.Score)
}

func TestEvaluateHeuristics_CleanRequest(t *testing.T) {
	result := evaluateHeuristics("198.51.100.9", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	require.Zero(t, result.Score)
	require.Empty(t, result.Signals)
}

func TestLocalGeoGuess(t *testing.T) {
	require.Equal(t, "US", localGeoGuess("8.8.8.8"))
	require.Equal(t, "", localGeoGuess("192.168.1.5"))
	require.Equal(t, "", localGeoGuess("not-an-ip"))
	require.Equal(t, "", localGeoGuess("127.0.0.1"))
}
