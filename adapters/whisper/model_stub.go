//go:build !whisper

package whisper

// Available reports whether whisper.cpp support is compiled in
func Available() bool { return false }

func loadModel(path string) (model, error) {
	return nil, ErrUnavailable
}
