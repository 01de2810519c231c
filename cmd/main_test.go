package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"ingest", "ask", "chat", "serve", "info"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"ingest without urls", []string{"ingest"}},
		{"ask without question", []string{"ask"}},
		{"info with extra args", []string{"info", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			rootCmd.SetOut(&buf)
			rootCmd.SetErr(&buf)
			rootCmd.SetArgs(tt.args)
			t.Cleanup(func() { rootCmd.SetArgs(nil) })

			err := rootCmd.Execute()
			require.Error(t, err)
		})
	}
}

func TestServeAddrFlag(t *testing.T) {
	flag := serveCmd.Flags().Lookup("addr")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestStageDescriptionsCoverEveryStage(t *testing.T) {
	assert.Len(t, stageDescriptions, 4)
	assert.Equal(t, "Data Loading...Started...", stageDescriptions["loading"])
}
