package docstore

import "strings"

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the collection path and id of a document path.
func Split(docPath string) (collection, id string) {
	i := strings.LastIndexByte(docPath, '/')
	if i < 0 {
		return "", docPath
	}
	return docPath[:i], docPath[i+1:]
}

// Parent returns the parent document path and leaf name of a collection
// path. Root collections have an empty parent.
func Parent(collection string) (parentDoc, name string) {
	return Split(collection)
}

func segments(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func validSegments(segs []string) bool {
	if len(segs) == 0 {
		return false
	}
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return true
}

// IsCollection reports whether p is a well-formed collection path.
func IsCollection(p string) bool {
	segs := segments(p)
	return validSegments(segs) && len(segs)%2 == 1
}

// IsDocument reports whether p is a well-formed document path.
func IsDocument(p string) bool {
	segs := segments(p)
	return validSegments(segs) && len(segs)%2 == 0
}

// InCollection reports whether docPath is a direct child of collection.
func InCollection(docPath, collection string) bool {
	c, _ := Split(docPath)
	return c == collection && IsDocument(docPath)
}
