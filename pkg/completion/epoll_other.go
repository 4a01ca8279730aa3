//go:build !linux

package completion

func newEpollDriver[O Op](Options) (Driver[O], error) {
	return nil, ErrUnsupported
}
