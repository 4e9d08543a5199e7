package service

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUploadServiceRejectsSize(t *testing.T) {
	svc := NewUploadService(&storageStub{}, 1, testLogger())

	file := buildFileHeader(t, "file.pdf", bytes.Repeat([]byte("a"), 2*1024*1024))

	_, err := svc.Upload(context.Background(), file)
	require.ErrorIs(t, err, ErrUploadTooLarge)
}

func TestUploadServiceTypeValidation(t *testing.T) {
	svc := NewUploadService(&storageStub{}, 5, testLogger())

	elf := append([]byte{0x7F, 'E', 'L', 'F', 0x02, 0x01, 0x01}, bytes.Repeat([]byte{0}, 64)...)
	file := buildFileHeader(t, "payload.bin", elf)
	_, err := svc.Upload(context.Background(), file)
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)
}

func TestUploadServiceAcceptsPlainText(t *testing.T) {
	storage := &storageStub{}
	svc := NewUploadService(storage, 5, testLogger())

	resp, err := svc.Upload(context.Background(), buildFileHeader(t, "My Essay.txt", []byte("plain text essay")))
	require.NoError(t, err)
	require.Equal(t, "text/plain", resp.MimeType)
	require.Equal(t, "my-essay.txt", resp.FileName)
	require.Equal(t, "campus/my-essay.txt", resp.PublicID)
	require.Equal(t, "plain text essay", storage.uploaded.String())
}

func TestUploadServiceSuccess(t *testing.T) {
	storage := &storageStub{}
	svc := NewUploadService(storage, 5, testLogger())

	pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	file := buildFileHeader(t, "image.png", pngHeader)

	resp, err := svc.Upload(context.Background(), file)
	require.NoError(t, err)
	require.Contains(t, resp.URL, "image")
	require.Equal(t, "image", resp.MimeType)
	require.Len(t, resp.Checksum, 64)
}

func TestUploadServiceStorageFailures(t *testing.T) {
	ctx := context.Background()

	_, err := NewUploadService(nil, 5, testLogger()).Upload(ctx, buildFileHeader(t, "a.txt", []byte("text")))
	require.ErrorIs(t, err, ErrStorageUnavailable)

	broken := &storageStub{err: errors.New("cloud down")}
	_, err = NewUploadService(broken, 5, testLogger()).Upload(ctx, buildFileHeader(t, "a.txt", []byte("text")))
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
}

func TestUploadServiceDelete(t *testing.T) {
	storage := &storageStub{}
	svc := NewUploadService(storage, 5, testLogger())

	require.NoError(t, svc.Delete(context.Background(), "campus/essay"))
	require.Equal(t, []string{"campus/essay"}, storage.deleted)

	var validationErr *ValidationError
	require.ErrorAs(t, svc.Delete(context.Background(), "  "), &validationErr)
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {"application/octet-stream"},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	writer.Close()

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}
