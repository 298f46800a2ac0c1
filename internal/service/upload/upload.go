package upload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmptyFile          = errors.New("uploaded file is empty")
	ErrMissingName        = errors.New("attachment name is required")
	ErrUnsupportedContent = errors.New("unsupported document content: expected utf-8 text or image")
)

// Attachment: загруженный пользователем документ. Для текстовых документов Content
// содержит текст, для изображений: data URL (base64).
type Attachment struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

// IsImage сообщает, что вложение: картинка.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.MimeType)), "image/")
}

// ContextMessage возвращает текст сообщения, которое добавляется в thread перед промптом.
// Содержимое картинок не передаётся: вместо него подставляется заглушка с именем файла.
func (a Attachment) ContextMessage() string {
	content := a.Content
	if a.IsImage() {
		content = ImagePlaceholder(a.Name)
	}
	return fmt.Sprintf("Uploaded document: %s\n\nContent: %s", a.Name, content)
}

// ImagePlaceholder: текст вместо содержимого картинки.
func ImagePlaceholder(name string) string {
	return fmt.Sprintf("[Image uploaded: %s]", name)
}

func (a Attachment) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrMissingName
	}
	return nil
}

// FromFile собирает вложение из содержимого файла. Пустой mimeType определяется
// по расширению, затем по содержимому.
func FromFile(name string, mimeType string, data []byte) (Attachment, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Attachment{}, ErrMissingName
	}
	if len(data) == 0 {
		return Attachment{}, ErrEmptyFile
	}

	mimeType = normalizeMimeType(name, mimeType, data)
	a := Attachment{Name: name, MimeType: mimeType}

	if a.IsImage() {
		a.Content = fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
		return a, nil
	}

	if !utf8.Valid(data) {
		return Attachment{}, fmt.Errorf("%s (%s): %w", name, mimeType, ErrUnsupportedContent)
	}
	a.Content = string(data)
	return a, nil
}

func normalizeMimeType(name string, mimeType string, data []byte) string {
	// Заголовок multipart часто приходит как application/octet-stream: считаем его пустым
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil || mt == "application/octet-stream" {
		mt = ""
	}
	if mt == "" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
			mt, _, _ = mime.ParseMediaType(byExt)
		}
	}
	if mt == "" {
		mt, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	return mt
}
