package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingReader struct {
	r    io.Reader
	read int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	atomic.AddInt64(&c.read, int64(n))
	return n, err
}

type endless struct{}

func (endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func randomBytes(n int) []byte {
	rng := rand.New(rand.NewSource(42))
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func readAllConcurrently(t *testing.T, readers []io.ReadCloser) [][]byte {
	t.Helper()
	out := make([][]byte, len(readers))
	errs := make([]error, len(readers))
	var wg sync.WaitGroup
	for i, r := range readers {
		wg.Add(1)
		go func(i int, r io.ReadCloser) {
			defer wg.Done()
			defer r.Close()
			out[i], errs[i] = io.ReadAll(r)
		}(i, r)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	return out
}

func TestTee_ByteIdentity(t *testing.T) {
	want := randomBytes(1 << 20)
	copies := readAllConcurrently(t, Tee(bytes.NewReader(want), 3))

	for i, got := range copies {
		assert.True(t, bytes.Equal(want, got), "copy %d differs", i)
	}
}

func TestBroadcaster_SmallChunks(t *testing.T) {
	want := randomBytes(10_000)
	b := New(iotest.OneByteReader(bytes.NewReader(want)), 2, Options{ChunkSize: 7, MaxLag: 64})

	copies := readAllConcurrently(t, b.Consumers())
	<-b.Done()
	assert.Equal(t, want, copies[0])
	assert.Equal(t, want, copies[1])
}

func TestBroadcaster_Backpressure(t *testing.T) {
	const (
		maxLag    = 1024
		chunkSize = 256
	)
	src := &countingReader{r: bytes.NewReader(randomBytes(100_000))}
	b := New(src, 2, Options{ChunkSize: chunkSize, MaxLag: maxLag})
	consumers := b.Consumers()
	fast, slow := consumers[0], consumers[1]

	fastDone := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(fast)
		fastDone <- data
	}()

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt64(&src.read), int64(maxLag+chunkSize),
		"producer ran ahead of the slow consumer")

	slowData, err := io.ReadAll(slow)
	require.NoError(t, err)
	fastData := <-fastDone
	assert.Len(t, slowData, 100_000)
	assert.Equal(t, slowData, fastData)

	require.NoError(t, fast.Close())
	require.NoError(t, slow.Close())
	<-b.Done()
}

func TestBroadcaster_TrimsReadPrefix(t *testing.T) {
	b := New(strings.NewReader("abcdefgh"), 2, Options{ChunkSize: 8, MaxLag: Unbounded})
	consumers := b.Consumers()
	<-b.Done()

	buf := make([]byte, 4)
	_, err := io.ReadFull(consumers[0], buf)
	require.NoError(t, err)

	b.mutex.Lock()
	assert.Equal(t, int64(0), b.base, "second consumer has not read yet")
	b.mutex.Unlock()

	_, err = io.ReadFull(consumers[1], buf)
	require.NoError(t, err)

	b.mutex.Lock()
	assert.Equal(t, int64(4), b.base)
	assert.Equal(t, "efgh", string(b.buf))
	b.mutex.Unlock()

	require.NoError(t, consumers[1].Close())
	rest, err := io.ReadAll(consumers[0])
	require.NoError(t, err)
	assert.Equal(t, "efgh", string(rest))
	require.NoError(t, consumers[0].Close())
}

func TestBroadcaster_ErrorAfterData(t *testing.T) {
	boom := errors.New("producer failed")
	src := io.MultiReader(strings.NewReader("hello"), iotest.ErrReader(boom))

	for i, r := range Tee(src, 2) {
		data, err := io.ReadAll(r)
		assert.ErrorIs(t, err, boom, "consumer %d", i)
		assert.Equal(t, "hello", string(data), "consumer %d", i)
		require.NoError(t, r.Close())
	}
}

func TestBroadcaster_CloseStopsProducer(t *testing.T) {
	b := New(endless{}, 2, Options{ChunkSize: 16, MaxLag: 64})
	for _, c := range b.Consumers() {
		buf := make([]byte, 8)
		_, err := c.Read(buf)
		require.NoError(t, err)
		require.NoError(t, c.Close())

		_, err = c.Read(buf)
		assert.ErrorIs(t, err, ErrConsumerClosed)
	}

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("producer kept running with no consumers")
	}
}

var pushPattern = regexp.MustCompile(`<script>\(self\.__FLIGHT_DATA\|\|=\[\]\)\.push\(("(?:[^"\\]|\\.)*")\)</script>`)

func pushedChunks(t *testing.T, out string) string {
	t.Helper()
	var sb strings.Builder
	for _, m := range pushPattern.FindAllStringSubmatch(out, -1) {
		var chunk string
		require.NoError(t, json.Unmarshal([]byte(m[1]), &chunk))
		sb.WriteString(chunk)
	}
	return sb.String()
}

func TestInjectPayload(t *testing.T) {
	const (
		doc     = "<html><body><p>hi</p></body></html>"
		payload = "0:[\"$1\"]\n"
	)
	script := `<script>(self.__FLIGHT_DATA||=[]).push("0:[\"$1\"]\n")</script>`

	tests := []struct {
		name    string
		doc     io.Reader
		payload io.Reader
		want    string
	}{
		{
			name:    "before closing body",
			doc:     strings.NewReader(doc),
			payload: strings.NewReader(payload),
			want:    "<html><body><p>hi</p>" + script + "</body></html>",
		},
		{
			name:    "closing tag split across reads",
			doc:     iotest.OneByteReader(strings.NewReader(doc)),
			payload: strings.NewReader(payload),
			want:    "<html><body><p>hi</p>" + script + "</body></html>",
		},
		{
			name:    "no body appends",
			doc:     strings.NewReader("<p>fragment</p>"),
			payload: strings.NewReader(payload),
			want:    "<p>fragment</p>" + script,
		},
		{
			name:    "empty payload",
			doc:     strings.NewReader(doc),
			payload: strings.NewReader(""),
			want:    doc,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := io.ReadAll(InjectPayload(tt.doc, tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestInjectPayload_EscapesScriptClose(t *testing.T) {
	out, err := io.ReadAll(InjectPayload(
		strings.NewReader("<body></body>"),
		strings.NewReader(`1:"</script><script>alert(1)"`),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(out), "</script>"))
	assert.Equal(t, `1:"</script><script>alert(1)"`, pushedChunks(t, string(out)))
}

func TestInjectPayload_KeepsRunesWhole(t *testing.T) {
	const payload = "1:\"héllo wörld 🎉\"\n"
	out, err := io.ReadAll(InjectPayload(
		strings.NewReader("<body></body>"),
		iotest.OneByteReader(strings.NewReader(payload)),
	))
	require.NoError(t, err)
	assert.NotContains(t, string(out), `\ufffd`)
	assert.Equal(t, payload, pushedChunks(t, string(out)))
}

func TestInjectPayload_Streams(t *testing.T) {
	pr, pw := io.Pipe()
	out := InjectPayload(pr, strings.NewReader("0:[]\n"))
	defer out.Close()

	head := "<html><head><title>t</title></head><body>content"
	go func() {
		_, _ = pw.Write([]byte(head))
	}()

	early := make([]byte, len(head)-(len("</body>")-1))
	_, err := io.ReadFull(out, early)
	require.NoError(t, err, "document bytes flow before the document completes")
	assert.Equal(t, head[:len(early)], string(early))

	go func() {
		_, _ = pw.Write([]byte("</body></html>"))
		_ = pw.Close()
	}()
	rest, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(rest), "</body></html>"))
	assert.Equal(t, "0:[]\n", pushedChunks(t, string(rest)))
}

func TestInjectPayload_PropagatesErrors(t *testing.T) {
	boom := errors.New("render failed")
	_, err := io.ReadAll(InjectPayload(
		io.MultiReader(strings.NewReader("<body>"), iotest.ErrReader(boom)),
		strings.NewReader(""),
	))
	assert.ErrorIs(t, err, boom)

	_, err = io.ReadAll(InjectPayload(
		strings.NewReader("<body></body>"),
		iotest.ErrReader(boom),
	))
	assert.ErrorIs(t, err, boom)
}

func TestTeeThenInject(t *testing.T) {
	payload := strings.Repeat(`1:["$","div",null,{"children":"row"}]`+"\n", 2000)
	copies := Tee(strings.NewReader(payload), 2)

	injected := InjectPayload(strings.NewReader("<html><body></body></html>"), copies[0])
	standalone := copies[1]

	var (
		doc []byte
		raw []byte
		wg  sync.WaitGroup
	)
	wg.Add(2)
	go func() { defer wg.Done(); doc, _ = io.ReadAll(injected) }()
	go func() { defer wg.Done(); raw, _ = io.ReadAll(standalone) }()
	wg.Wait()
	require.NoError(t, standalone.Close())

	assert.Equal(t, payload, string(raw))
	assert.Equal(t, payload, pushedChunks(t, string(doc)))
}
