package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sample = `<< {\"type\":\"welcome\",\"payload\":{\"version\":\"0.9\",\"motd\":\"hi\"}}
>> {\"type\":\"login\",\"payload\":{\"username\":\"ace\",\"password\":\"x\"}}
noise line
<< {\"type\":\"tick\",\"payload\":{\"tick\":4}}{\"type\":\"tick\",\"payload\":{\"tick\":5}}
<< {\"type\":\"undocked\"}
`

func TestReadFramesRange(t *testing.T) {
	frames, err := readFrames(strings.NewReader(sample), 1, -1)
	require.NoError(t, err)
	require.Len(t, frames, 4)
	assert.Equal(t, inbound, frames[0].Direction)
	assert.Equal(t, `{"type":"welcome","payload":{"version":"0.9","motd":"hi"}}`, frames[0].Data)
	assert.Equal(t, outbound, frames[1].Direction)
	assert.Equal(t, 4, frames[2].Line)

	frames, err = readFrames(strings.NewReader(sample), 2, 4)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, 2, frames[0].Line)
}

func TestSummarizeSplitsCoalescedFrames(t *testing.T) {
	frames, err := readFrames(strings.NewReader(sample), 1, -1)
	require.NoError(t, err)
	counts := summarize(frames)
	assert.Equal(t, 2, counts["<< tick"])
	assert.Equal(t, 1, counts[">> login"])
	assert.Equal(t, 1, counts["<< welcome"])
}

func TestTranscriptIsYAML(t *testing.T) {
	frames, err := readFrames(strings.NewReader(sample), 1, 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeTranscript(&buf, Transcript{Name: "capture", Frames: frames}))

	var back Transcript
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "capture", back.Name)
	assert.Equal(t, frames, back.Frames)
}

func TestReplayBuildsEventFeed(t *testing.T) {
	frames, err := readFrames(strings.NewReader(sample), 1, -1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, replay(&buf, frames))
	out := buf.String()
	assert.Contains(t, out, "Connected to SpaceMolt v0.9 - hi")
	assert.Contains(t, out, "Undocked")
	assert.Less(t, strings.Index(out, "Connected"), strings.Index(out, "Undocked"))
}
