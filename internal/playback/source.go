package playback

import "fmt"

type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceExternal
	SourceLocalFile
	SourceRemoteFile
)

func (k SourceKind) String() string {
	switch k {
	case SourceNone:
		return "none"
	case SourceExternal:
		return "external-link"
	case SourceLocalFile:
		return "local-file"
	case SourceRemoteFile:
		return "remote-file"
	}
	return fmt.Sprintf("source(%d)", int(k))
}

// Resource is something a source holds open: a local file handle or the
// remote file stream.
type Resource interface {
	Release()
}

// MediaSource is what the shared player is watching. The zero value is
// SourceNone.
type MediaSource struct {
	Kind SourceKind
	// URL of an external link.
	URL string
	// Name of a shared local file.
	Name string
	// Resource is released when the source is left. A remote file source
	// has none until its stream arrives.
	Resource Resource
}

func (s MediaSource) String() string {
	switch s.Kind {
	case SourceExternal:
		return "link " + s.URL
	case SourceLocalFile:
		return "file " + s.Name
	}
	return s.Kind.String()
}

// ResourceFunc adapts a func to Resource.
type ResourceFunc func()

func (f ResourceFunc) Release() { f() }
