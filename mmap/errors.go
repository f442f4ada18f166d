package mmap

import "errors"

var ErrTooLarge = errors.New("mmap: file exceeds the largest supported mapping size")
