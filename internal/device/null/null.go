// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Null package does nothing but correctly.
package null

// Null implementation of the device backend. Usefull for measuring
// performance of the raid core, BUSE and buse library. Otherwise useless.
// Reads return zeroes and writes are dropped.
type Null struct {
	size int64
}

func New(size int64) *Null {
	return &Null{size: size}
}

func (n *Null) ReadAt(buf []byte, offset int64) (int, error) {
	for i := range buf {
		buf[i] = 0
	}

	return len(buf), nil
}

func (n *Null) WriteAt(buf []byte, offset int64) (int, error) {
	return len(buf), nil
}

func (n *Null) Sync() error {
	return nil
}

func (n *Null) Size() int64 {
	return n.size
}

func (n *Null) Close() error {
	return nil
}
