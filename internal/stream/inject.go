package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"unicode/utf8"
)

const bodyClose = "</body>"

var (
	scriptOpen  = []byte("<script>(self.__FLIGHT_DATA||=[]).push(")
	scriptClose = []byte(")</script>")
)

// InjectPayload copies doc through and, at the closing body tag, emits each
// chunk of payload as an inline script that pushes it onto
// self.__FLIGHT_DATA. Only a tail shorter than the closing tag is held
// back while scanning. A document without a closing body tag gets the
// scripts appended at the end.
//
// The returned reader closes doc and payload when they implement
// io.Closer.
func InjectPayload(doc, payload io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		err := inject(pw, doc, payload)
		closeReader(doc)
		closeReader(payload)
		pw.CloseWithError(err)
	}()
	return pr
}

func inject(w io.Writer, doc, payload io.Reader) error {
	hold := len(bodyClose) - 1
	buf := make([]byte, DefaultChunkSize)
	var pending []byte

	for {
		n, readErr := doc.Read(buf)
		pending = append(pending, buf[:n]...)

		if i := bytes.Index(pending, []byte(bodyClose)); i >= 0 {
			if _, err := w.Write(pending[:i]); err != nil {
				return err
			}
			if err := writePayload(w, payload); err != nil {
				return err
			}
			if _, err := w.Write(pending[i:]); err != nil {
				return err
			}
			if readErr != nil {
				return ignoreEOF(readErr)
			}
			_, err := io.Copy(w, doc)
			return err
		}

		if readErr != nil {
			if readErr != io.EOF {
				return readErr
			}
			if _, err := w.Write(pending); err != nil {
				return err
			}
			return writePayload(w, payload)
		}

		if len(pending) > hold {
			cut := len(pending) - hold
			if _, err := w.Write(pending[:cut]); err != nil {
				return err
			}
			pending = append(pending[:0], pending[cut:]...)
		}
	}
}

// writePayload drains payload as script tags. Chunks never split a UTF-8
// sequence.
func writePayload(w io.Writer, payload io.Reader) error {
	buf := make([]byte, DefaultChunkSize)
	var carry []byte

	for {
		n, readErr := payload.Read(buf)
		data := append(carry, buf[:n]...)
		complete, rest := splitUTF8(data)
		if readErr != nil {
			complete, rest = data, nil
		}
		carry = append([]byte(nil), rest...)

		if len(complete) > 0 {
			if err := writeScript(w, complete); err != nil {
				return err
			}
		}
		if readErr != nil {
			return ignoreEOF(readErr)
		}
	}
}

func writeScript(w io.Writer, chunk []byte) error {
	encoded, err := json.Marshal(string(chunk))
	if err != nil {
		return err
	}
	for _, part := range [][]byte{scriptOpen, encoded, scriptClose} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

// splitUTF8 splits b before a trailing incomplete UTF-8 sequence.
func splitUTF8(b []byte) (complete, rest []byte) {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if !utf8.FullRune(b[start:]) {
			return b[:start], b[start:]
		}
		break
	}
	return b, nil
}

func ignoreEOF(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

func closeReader(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}
