package model

import (
	"path"
	"strings"
)

var extMedia = map[string]MediaType{
	".jpg": MediaImage, ".jpeg": MediaImage, ".png": MediaImage, ".heic": MediaImage,
	".bmp": MediaImage, ".tif": MediaImage, ".tiff": MediaImage,
	".webp": MediaSticker, ".tgs": MediaSticker,
	".gif": MediaGIF,
	".opus": MediaAudio, ".ogg": MediaAudio, ".mp3": MediaAudio, ".m4a": MediaAudio,
	".aac": MediaAudio, ".wav": MediaAudio, ".amr": MediaAudio, ".caf": MediaAudio,
	".mp4": MediaVideo, ".mov": MediaVideo, ".3gp": MediaVideo, ".webm": MediaVideo,
	".mkv": MediaVideo, ".avi": MediaVideo,
}

var extContentType = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png", ".heic": "image/heic",
	".webp": "image/webp", ".gif": "image/gif", ".opus": "audio/ogg", ".ogg": "audio/ogg",
	".mp3": "audio/mpeg", ".m4a": "audio/mp4", ".wav": "audio/wav", ".mp4": "video/mp4",
	".mov": "video/quicktime", ".webm": "video/webm", ".pdf": "application/pdf",
	".vcf": "text/vcard",
}

// ClassifyMedia guesses a media type from a content type, falling back to the
// filename extension.
func ClassifyMedia(filename, contentType string) MediaType {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "image/gif":
		return MediaGIF
	case ct == "image/webp" || ct == "application/x-tgsticker":
		return MediaSticker
	case strings.HasPrefix(ct, "image/"):
		return MediaImage
	case strings.HasPrefix(ct, "audio/"):
		return MediaAudio
	case strings.HasPrefix(ct, "video/"):
		return MediaVideo
	}
	if t, ok := extMedia[strings.ToLower(path.Ext(filename))]; ok {
		return t
	}
	return MediaOther
}

// ContentTypeFor returns a best-effort content type for a filename, or "".
func ContentTypeFor(filename string) string {
	return extContentType[strings.ToLower(path.Ext(filename))]
}
