//go:build !linux

package installer

func exchange(a, b string) error {
	return errExchangeUnsupported
}
