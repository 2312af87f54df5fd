package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatesCommandExpandsWeekend(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"dates", "27/12/2024"})

	require.NoError(t, root.Execute())
	require.Equal(t, "27/12/2024\n28/12/2024\n29/12/2024\n30/12/2024\n", out.String())
}

func TestDatesCommandRejectsBadDate(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"dates", "2024-12-27"})

	require.Error(t, root.Execute())
}

func TestSearchCommandRequiresTerms(t *testing.T) {
	t.Setenv("CAUSELIST_NOTIFY_LOG", "false")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"search", "--date", "26/12/2024"})

	require.ErrorContains(t, root.Execute(), "search term")
}
