//go:build !govips || !cgo

package editor

func Startup() error {
	return nil
}

func Shutdown() {}

func newEncoder() (encoder, error) {
	return stdEncoder{}, nil
}
