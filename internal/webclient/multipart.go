package webclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// FormFile is a single file part of a multipart body.
type FormFile struct {
	Field    string
	FileName string
	Content  io.Reader
}

// BuildMultipart encodes fields and file into a multipart/form-data body.
// Fields with empty values are skipped. It returns the body and its Content-Type.
func BuildMultipart(fields map[string]string, order []string, file FormFile) ([]byte, string, error) {
	if file.Content == nil {
		return nil, "", fmt.Errorf("multipart: nil file content")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, k := range order {
		v, ok := fields[k]
		if !ok || v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("multipart: write field %s: %w", k, err)
		}
	}

	name := file.FileName
	if name == "" {
		name = "file"
	}
	part, err := w.CreateFormFile(file.Field, name)
	if err != nil {
		return nil, "", fmt.Errorf("multipart: create file part: %w", err)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return nil, "", fmt.Errorf("multipart: copy file: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("multipart: close writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
