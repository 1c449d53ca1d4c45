package extract

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chatlift/skypeetl/pkg/export"
)

// metadata is the run-level identity discovered while scanning a document.
type metadata struct {
	UserID     string
	ExportDate string
}

// scanDocument walks a Skype export document token-by-token, decoding one
// conversation at a time and invoking onConversation for each. Two layouts
// are supported: metadata and conversations at the top level, and the newer
// variant that nests both inside the first element of a "messages" array.
func scanDocument(r io.Reader, onConversation func(*export.RawConversation) error) (metadata, error) {
	dec := json.NewDecoder(r)
	var meta metadata
	if err := scanObject(dec, &meta, onConversation); err != nil {
		return meta, err
	}
	return meta, nil
}

func scanObject(dec *json.Decoder, meta *metadata, onConversation func(*export.RawConversation) error) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: expected object key, got %v", ErrInvalidJSON, tok)
		}

		switch key {
		case "userId":
			if err := dec.Decode(&meta.UserID); err != nil {
				return fmt.Errorf("%w: userId: %v", ErrInvalidJSON, err)
			}
		case "exportDate":
			if err := dec.Decode(&meta.ExportDate); err != nil {
				return fmt.Errorf("%w: exportDate: %v", ErrInvalidJSON, err)
			}
		case "conversations":
			if err := scanConversations(dec, onConversation); err != nil {
				return err
			}
		case "messages":
			// Newer export layout: the first element of "messages" carries
			// the metadata and conversations.
			if err := scanMessagesEnvelope(dec, meta, onConversation); err != nil {
				return err
			}
		default:
			if err := skipValue(dec); err != nil {
				return err
			}
		}
	}

	return expectDelim(dec, '}')
}

func scanConversations(dec *json.Decoder, onConversation func(*export.RawConversation) error) error {
	if err := expectDelim(dec, '['); err != nil {
		return err
	}
	for dec.More() {
		var conv export.RawConversation
		if err := dec.Decode(&conv); err != nil {
			return fmt.Errorf("%w: conversation: %v", ErrInvalidJSON, err)
		}
		if err := onConversation(&conv); err != nil {
			return err
		}
	}
	return expectDelim(dec, ']')
}

func scanMessagesEnvelope(dec *json.Decoder, meta *metadata, onConversation func(*export.RawConversation) error) error {
	if err := expectDelim(dec, '['); err != nil {
		return err
	}
	if dec.More() {
		if err := scanObject(dec, meta, onConversation); err != nil {
			return err
		}
	}
	for dec.More() {
		if err := skipValue(dec); err != nil {
			return err
		}
	}
	return expectDelim(dec, ']')
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if d, ok := tok.(json.Delim); !ok || rune(d) != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrInvalidJSON, want, tok)
	}
	return nil
}

func skipValue(dec *json.Decoder) error {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// openTarEntry scans a tar archive for the first entry whose name ends
// messages.json and returns a reader over it. The caller owns Close, which
// closes the underlying file.
func openTarEntry(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			_ = f.Close()
			return nil, fmt.Errorf("%w: no messages.json entry in %s", ErrUnsupportedFormat, path)
		}
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to read tar %s: %w", path, err)
		}
		if hdr.Typeflag == tar.TypeReg && strings.HasSuffix(hdr.Name, "messages.json") {
			return &tarEntryReader{Reader: tr, file: f}, nil
		}
	}
}

type tarEntryReader struct {
	io.Reader
	file *os.File
}

func (r *tarEntryReader) Close() error { return r.file.Close() }
