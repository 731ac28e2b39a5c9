//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newEncoder() Encoder {
	return webpEncoder{method: 4}
}
