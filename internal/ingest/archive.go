package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// ArchiveContents is what an archive extractor hands back: the chat text and
// the media that came with it.
type ArchiveContents struct {
	ChatText       string
	MediaArtifacts []model.MediaArtifact
	MediaFiles     map[string][]byte
}

// ArchiveExtractor opens an exported chat archive.
type ArchiveExtractor interface {
	Extract(ctx context.Context, data []byte) (*ArchiveContents, error)
}

// DefaultMaxMediaFileBytes bounds each media file kept in memory.
const DefaultMaxMediaFileBytes = 32 * 1024 * 1024

// ZipExtractor reads WhatsApp-style ZIP exports: one chat .txt plus media.
type ZipExtractor struct {
	// MaxMediaFileBytes caps each file copied into MediaFiles. Larger files
	// are still listed as artifacts. Zero means DefaultMaxMediaFileBytes;
	// negative disables copying.
	MaxMediaFileBytes int64
}

// Extract picks the chat text and lists every other entry as a media artifact
// located at zip://<name>.
func (z ZipExtractor) Extract(ctx context.Context, data []byte) (*ArchiveContents, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	limit := z.MaxMediaFileBytes
	if limit == 0 {
		limit = DefaultMaxMediaFileBytes
	}

	var chat *zip.File
	var media []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ".txt") {
			if chat == nil || chatRank(f.Name) > chatRank(chat.Name) {
				chat = f
			}
			continue
		}
		media = append(media, f)
	}
	if chat == nil {
		return nil, fmt.Errorf("no chat text in archive: %w", ErrStructuralMismatch)
	}

	text, err := readEntry(chat, -1)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", chat.Name, err)
	}

	sort.Slice(media, func(i, j int) bool { return media[i].Name < media[j].Name })
	out := &ArchiveContents{ChatText: string(text), MediaFiles: make(map[string][]byte)}
	for _, f := range media {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := path.Base(f.Name)
		out.MediaArtifacts = append(out.MediaArtifacts, model.MediaArtifact{
			Type:               model.ClassifyMedia(name, ""),
			OriginalFilename:   name,
			ContentType:        model.ContentTypeFor(name),
			TransientPathOrURL: "zip://" + f.Name,
		})
		if limit < 0 || int64(f.UncompressedSize64) > limit {
			continue
		}
		b, err := readEntry(f, limit)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out.MediaFiles[f.Name] = b
	}
	return out, nil
}

// chatRank prefers the names WhatsApp gives its chat file.
func chatRank(name string) int {
	base := strings.ToLower(path.Base(name))
	switch {
	case base == "_chat.txt":
		return 3
	case strings.HasPrefix(base, "whatsapp chat"):
		return 2
	case !strings.Contains(name, "/"):
		return 1
	}
	return 0
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if limit > 0 {
		return io.ReadAll(io.LimitReader(rc, limit))
	}
	return io.ReadAll(rc)
}
