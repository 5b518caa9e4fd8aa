// Package commit implements the NDJSON commit handler: parsing a
// streamed sequence of file operations, staging each on the versioned
// store, and finalizing into one atomic commit with LFS tracking and
// quota bookkeeping.
package commit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kohakuhub/hub/internal/apierror"
)

// Header is the mandatory first line of a commit request.
type Header struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type rawLine struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// FileOp is the inline-base64 "file" operation.
type FileOp struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// LFSFileOp is the "lfsFile" operation: content already uploaded via
// the LFS batch protocol, referenced here by oid.
type LFSFileOp struct {
	Path string `json:"path"`
	OID  string `json:"oid"`
	Size int64  `json:"size"`
	Algo string `json:"algo"`
}

// DeletedFileOp removes a single path.
type DeletedFileOp struct {
	Path string `json:"path"`
}

// DeletedFolderOp removes every path under a prefix.
type DeletedFolderOp struct {
	Path string `json:"path"`
}

// CopyFileOp links an existing object at a new path with no byte copy.
type CopyFileOp struct {
	Path        string `json:"path"`
	SrcPath     string `json:"srcPath"`
	SrcRevision string `json:"srcRevision"`
}

// Op is a parsed operation line ready for processing. Exactly one of
// the typed fields is non-nil.
type Op struct {
	File          *FileOp
	LFSFile       *LFSFileOp
	DeletedFile   *DeletedFileOp
	DeletedFolder *DeletedFolderOp
	CopyFile      *CopyFileOp
}

// ParseNDJSON reads the header line followed by zero or more operation
// lines. Unknown keys are ignored rather than rejected, matching the
// tolerant wire contract Git-LFS/Hub clients expect.
func ParseNDJSON(r io.Reader) (*Header, []Op, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var header *Header
	var ops []Op

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}

		var raw rawLine
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, nil, apierror.Validation("MalformedNDJSON", fmt.Sprintf("commit: invalid json line: %v", err))
		}

		if header == nil {
			if raw.Key != "header" {
				return nil, nil, apierror.Validation("MissingHeader", "commit: first line must be a header op")
			}
			var h Header
			if err := json.Unmarshal(raw.Value, &h); err != nil {
				return nil, nil, apierror.Validation("MalformedHeader", fmt.Sprintf("commit: invalid header: %v", err))
			}
			header = &h
			continue
		}

		op, ok, err := parseOp(raw)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			ops = append(ops, op)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, apierror.Validation("MalformedNDJSON", fmt.Sprintf("commit: read error: %v", err))
	}
	if header == nil {
		return nil, nil, apierror.Validation("MissingHeader", "commit: empty body, no header op")
	}
	return header, ops, nil
}

func parseOp(raw rawLine) (Op, bool, error) {
	switch raw.Key {
	case "file":
		var v FileOp
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return Op{}, false, apierror.Validation("MalformedOp", fmt.Sprintf("commit: invalid file op: %v", err))
		}
		return Op{File: &v}, true, nil
	case "lfsFile":
		var v LFSFileOp
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return Op{}, false, apierror.Validation("MalformedOp", fmt.Sprintf("commit: invalid lfsFile op: %v", err))
		}
		if v.Algo == "" {
			v.Algo = "sha256"
		}
		return Op{LFSFile: &v}, true, nil
	case "deletedFile":
		var v DeletedFileOp
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return Op{}, false, apierror.Validation("MalformedOp", fmt.Sprintf("commit: invalid deletedFile op: %v", err))
		}
		return Op{DeletedFile: &v}, true, nil
	case "deletedFolder":
		var v DeletedFolderOp
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return Op{}, false, apierror.Validation("MalformedOp", fmt.Sprintf("commit: invalid deletedFolder op: %v", err))
		}
		return Op{DeletedFolder: &v}, true, nil
	case "copyFile":
		var v CopyFileOp
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return Op{}, false, apierror.Validation("MalformedOp", fmt.Sprintf("commit: invalid copyFile op: %v", err))
		}
		return Op{CopyFile: &v}, true, nil
	default:
		return Op{}, false, nil
	}
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
