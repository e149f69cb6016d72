package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudNativeWorks/isul-sdk/isul"
)

func TestTerminalPresenter_CancelledPromptKeepsInput(t *testing.T) {
	pr, pw := io.Pipe()
	p := newTerminalPresenter(pr, io.Discard)
	defer p.Close()
	req := isul.SignInRequest{URL: "https://signin.example/signin"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Present(ctx, req)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		_, _ = io.WriteString(pw, "DEMO-KEY\ntoken:a.b.c\n")
		_ = pw.Close()
	}()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	tests := []isul.SignInResult{
		{Outcome: isul.SignInLicenseKey, LicenseKey: "DEMO-KEY"},
		{Outcome: isul.SignInOfflineToken, Token: "a.b.c"},
		{Outcome: isul.SignInCancelled},
		{Outcome: isul.SignInCancelled},
	}
	for i, want := range tests {
		res, err := p.Present(ctx2, req)
		require.NoError(t, err, "prompt %d", i)
		assert.Equal(t, want, res, "prompt %d", i)
	}
}
