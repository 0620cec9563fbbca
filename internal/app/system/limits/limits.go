// internal/app/system/limits/limits.go
package limits

// Request body size limits. They keep oversized requests from exhausting
// memory before a handler rejects them.
const (
	// MaxJSONBody bounds JSON request bodies (titles, notes, comments).
	MaxJSONBody = 64 << 10 // 64 KB

	// MaxPhotoUpload bounds the multipart body of a marker upload. The photo
	// is re-encoded to a much smaller JPEG before it is stored.
	MaxPhotoUpload = 20 << 20 // 20 MB

	// MaxWebSocketMessage bounds frames read from live clients, which only
	// ever send control messages.
	MaxWebSocketMessage = 512
)
