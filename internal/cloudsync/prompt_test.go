package cloudsync

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	confirm := Prompt(strings.NewReader("y\nno\nYes please\n\n"), &out)
	ctx := context.Background()

	assert.True(t, confirm(ctx, "Overwrite?"))
	assert.False(t, confirm(ctx, "Overwrite?"))
	assert.True(t, confirm(ctx, "Overwrite?"))
	assert.False(t, confirm(ctx, "Overwrite?"))
	assert.False(t, confirm(ctx, "Overwrite?"), "end of input declines")
	assert.Contains(t, out.String(), "Overwrite? [y/N] ")
}

func TestPromptCancelled(t *testing.T) {
	var out bytes.Buffer
	confirm := Prompt(strings.NewReader("y\n"), &out)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, confirm(ctx, "Overwrite?"))
	assert.Empty(t, out.String())
}

func TestAlways(t *testing.T) {
	assert.True(t, Always()(context.Background(), "anything"))
}
