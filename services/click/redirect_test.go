package click

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRedirectURL_NoPlaceholderAppendsParam(t *testing.T) {
	got := buildRedirectURL("https://x.com/go?x=1#frag", "click_id", "abc", nil)
	require.Equal(t, "https://x.com/go?x=1&click_id=abc#frag", got)
}

func TestBuildRedirectURL_PlaceholderSuppressesAppend(t *testing.T) {
	got := buildRedirectURL("https://x.com/go?cid={click_id}", "click_id", "abc", nil)
	require.Equal(t, "https://x.com/go?cid=abc", got)
	require.NotContains(t, got, "click_id=")
}

func TestBuildRedirectURL_CaseInsensitiveAndEncodedForms(t *testing.T) {
	got := buildRedirectURL("https://x.com/go?cid={CLICK_ID}", "click_id", "abc", nil)
	require.Equal(t, "https://x.com/go?cid=abc", got)

	got = buildRedirectURL("https://x.com/go?cid=%7Bclick_id%7D", "click_id", "abc", nil)
	require.Equal(t, "https://x.com/go?cid=abc", got)

	got = buildRedirectURL("https://x.com/go?cid=%7BCLICK_ID%7D", "click_id", "abc", nil)
	require.Equal(t, "https://x.com/go?cid=abc", got)
}

func TestBuildRedirectURL_CustomToken(t *testing.T) {
	got := buildRedirectURL("https://x.com/go?s={subid}", "subid", "abc", nil)
	require.Equal(t, "https://x.com/go?s=abc", got)

	// Without a placeholder the id is appended under the custom name.
	got = buildRedirectURL("https://x.com/go", "subid", "abc", nil)
	require.Equal(t, "https://x.com/go?subid=abc", got)
}

func TestBuildRedirectURL_SubPlaceholdersAndLeftovers(t *testing.T) {
	subs := map[string]string{"sub1": "foo", "sub2": "bar"}

	got := buildRedirectURL("https://x.com/go?a={sub1}", "click_id", "abc", subs)
	require.Contains(t, got, "a=foo")
	// sub1 was consumed as a placeholder, only sub2 is appended.
	require.NotContains(t, got, "sub1=")
	require.Contains(t, got, "sub2=bar")
}

func TestBuildRedirectURL_ExistingParamNotDuplicated(t *testing.T) {
	subs := map[string]string{"sub1": "new"}

	got := buildRedirectURL("https://x.com/go?sub1=old", "click_id", "abc", subs)
	require.Equal(t, "https://x.com/go?sub1=old&click_id=abc", got)
}

func TestBuildRedirectURL_FragmentAppendedAfterQueryLogic(t *testing.T) {
	subs := map[string]string{"sub1": "foo"}

	got := buildRedirectURL("https://x.com/go#section", "click_id", "abc", subs)
	require.Equal(t, "https://x.com/go?click_id=abc&sub1=foo#section", got)
}

func TestBuildRedirectURL_MultipleOccurrencesAllReplaced(t *testing.T) {
	got := buildRedirectURL("https://x.com/{click_id}/go?cid={click_id}", "click_id", "abc", nil)
	require.Equal(t, "https://x.com/abc/go?cid=abc", got)
}
