package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwind/snipsync/internal/records"
	"github.com/solwind/snipsync/internal/records/recordstest"
)

type outcomes []string

func (o *outcomes) ObserveSearch(outcome string) { *o = append(*o, outcome) }

func TestMatchBlankTermSkipsNetwork(t *testing.T) {
	fake := recordstest.New()
	got, err := NewMatcher(fake, Options{}).Match(context.Background(), "   ")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, fake.SearchCalls())
}

func TestMatchRanksPrefixMatchesFirst(t *testing.T) {
	fake := recordstest.New().
		AddSnippet(records.Snippet{ID: "1", Label: "sw-icon-btn", Description: "icon", InsertText: "<i/>"}).
		AddSnippet(records.Snippet{ID: "2", Label: "sw-btn-primary", Name: "Primary", InsertText: `<button class="${1|primary,secondary|}">${2:Go}</button>$0`}).
		AddSnippet(records.Snippet{ID: "3", Label: "sw-btn", InsertText: "<button/>"})

	var seen outcomes
	got, err := NewMatcher(fake, Options{Observer: &seen}).Match(context.Background(), "btn")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"sw-btn", "sw-btn-primary", "sw-icon-btn"}, []string{got[0].Label, got[1].Label, got[2].Label})
	assert.Equal(t, "Primary", got[1].Detail)
	assert.Equal(t, "icon", got[2].Detail)
	assert.Equal(t, "```html\n<button class=\"primary\">Go</button>\n```", got[1].Documentation)
	assert.Contains(t, got[1].InsertText, "${2:Go}")
	assert.Equal(t, outcomes{OutcomeMatched}, seen)
}

func TestMatchNotFoundIsEmptyWithoutError(t *testing.T) {
	fake := recordstest.New().AddSnippet(records.Snippet{ID: "1", Label: "sw-card"})
	var seen outcomes
	got, err := NewMatcher(fake, Options{Observer: &seen}).Match(context.Background(), "zzz")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, outcomes{OutcomeEmpty}, seen)
}

func TestMatchNetworkFailureIsUnavailable(t *testing.T) {
	fake := recordstest.New()
	fake.SearchErr = &records.NetworkError{Op: "GET", Err: errors.New("refused")}
	got, err := NewMatcher(fake, Options{}).Match(context.Background(), "btn")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, records.ErrNetwork)
	assert.Empty(t, got)
}

func TestMatchAuthFailureIsDistinct(t *testing.T) {
	fake := recordstest.New()
	fake.SearchErr = &records.HTTPError{StatusCode: 401, Code: "unauthorized"}
	_, err := NewMatcher(fake, Options{}).Match(context.Background(), "btn")
	require.ErrorIs(t, err, records.ErrAuth)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestMatchLimit(t *testing.T) {
	fake := recordstest.New().
		AddSnippet(records.Snippet{ID: "1", Label: "sw-a"}).
		AddSnippet(records.Snippet{ID: "2", Label: "sw-ab"}).
		AddSnippet(records.Snippet{ID: "3", Label: "sw-abc"})
	got, err := NewMatcher(fake, Options{Limit: 2}).Match(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStripPlaceholders(t *testing.T) {
	cases := map[string]string{
		"${1|red,green|}":                     "red",
		"<p>${1:Hello}</p>":                   "<p>Hello</p>",
		"<p>$1</p>$0":                         "<p></p>",
		"<b>${TM_SELECTED_TEXT:fallback}</b>": "<b></b>",
		"class=\"${TM_FILENAME_BASE}\"":       "class=\"\"",
		"${1:outer ${2:inner}}":               "outer inner",
		"plain":                               "plain",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripPlaceholders(in), in)
	}
}
