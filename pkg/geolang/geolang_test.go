package geolang

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_OfferLanguageWins(t *testing.T) {
	require.Equal(t, "de", Resolve("de", "RU"))
	require.Equal(t, "de", Resolve(" DE ", "RU"))
}

func TestResolve_CountryFallback(t *testing.T) {
	require.Equal(t, "ru", Resolve("", "RU"))
	require.Equal(t, "pt", Resolve("", "br"))
}

func TestResolve_DefaultEnglish(t *testing.T) {
	require.Equal(t, "en", Resolve("", ""))
	require.Equal(t, "en", Resolve("", "ZZ"))
}
