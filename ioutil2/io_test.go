package ioutil2_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacobsa/cuse2net/ioutil2"
)

type shortWriter struct{ max int }

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.max {
		return w.max, nil
	}
	return len(p), nil
}

func TestWriteGatherConcatenatesAndChecksLength(t *testing.T) {
	var buf bytes.Buffer
	err := ioutil2.WriteGather(&buf, []byte("hello, "), []byte("world"))
	require.NoError(t, err)
	require.Equal(t, "hello, world", buf.String())
}

func TestWriteGatherEmptyIsNoop(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ioutil2.WriteGather(&buf))
	require.Zero(t, buf.Len())
}

func TestWriteGatherShortWriteIsFatal(t *testing.T) {
	w := &shortWriter{max: 3}
	err := ioutil2.WriteGather(w, []byte("hello"))
	require.Error(t, err)
}

func TestReadFullReadsExactly(t *testing.T) {
	r := bytes.NewReader([]byte("0123456789"))
	buf := make([]byte, 5)
	require.NoError(t, ioutil2.ReadFull(r, buf, time.Time{}))
	require.Equal(t, "01234", string(buf))
}
