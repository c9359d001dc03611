package container

import "errors"

var (
	ErrCorruptContainer = errors.New("container: corrupt archive")
	ErrCorruptPart      = errors.New("container: corrupt part")
	ErrPartNotFound     = errors.New("container: part not found")
	ErrPartTooLarge     = errors.New("container: part exceeds size limit")
)
