package provider

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/notifyhub/formsync/internal/domain"
)

// ParseResults decodes a batch result archive: a gzip'd tar whose regular
// files each hold a JSON array of operation results. Results are returned in
// archive order. A bare JSON array (no tar.gz wrapping) is accepted too.
func ParseResults(raw []byte) ([]domain.OperationResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return decodeResultArray(trimmed)
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open result archive: %w", err)
	}
	defer gz.Close()

	var results []domain.OperationResult
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read result archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		if len(bytes.TrimSpace(content)) == 0 {
			continue
		}
		part, err := decodeResultArray(content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", hdr.Name, err)
		}
		results = append(results, part...)
	}
	return results, nil
}

func decodeResultArray(data []byte) ([]domain.OperationResult, error) {
	var results []domain.OperationResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return results, nil
}

type problemBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ErrorDetail extracts a human readable message from an error response body.
// Problem-style JSON yields its detail (or title) followed by any field
// errors; anything else is returned trimmed.
func ErrorDetail(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}

	var p problemBody
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return body
	}

	msg := p.Detail
	if msg == "" {
		msg = p.Title
	}
	var fields []string
	for _, fe := range p.Errors {
		switch {
		case fe.Field != "" && fe.Message != "":
			fields = append(fields, fe.Field+": "+fe.Message)
		case fe.Message != "":
			fields = append(fields, fe.Message)
		}
	}
	if len(fields) > 0 {
		if msg != "" {
			msg += " "
		}
		msg += "(" + strings.Join(fields, "; ") + ")"
	}
	if msg == "" {
		return body
	}
	return msg
}
