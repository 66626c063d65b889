package nvim

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Remote object handles arrive as typed extension values. The engine
// advertises the type codes in its api metadata; they have been stable since
// the embedding protocol appeared.
const (
	bufferExtID  = 0
	windowExtID  = 1
	tabpageExtID = 2
)

// Buffer is a handle to an engine buffer.
type Buffer int64

// Window is a handle to an engine window.
type Window int64

// Tabpage is a handle to an engine tabpage.
type Tabpage int64

func (b Buffer) String() string { return fmt.Sprintf("buffer:%d", int64(b)) }

func (w Window) String() string { return fmt.Sprintf("window:%d", int64(w)) }

func (t Tabpage) String() string { return fmt.Sprintf("tabpage:%d", int64(t)) }

func (b Buffer) MarshalMsgpack() ([]byte, error) { return msgpack.Marshal(int64(b)) }

func (b *Buffer) UnmarshalMsgpack(data []byte) error {
	var n int64
	if err := msgpack.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("nvim: buffer handle payload: %w", err)
	}
	*b = Buffer(n)
	return nil
}

func (w Window) MarshalMsgpack() ([]byte, error) { return msgpack.Marshal(int64(w)) }

func (w *Window) UnmarshalMsgpack(data []byte) error {
	var n int64
	if err := msgpack.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("nvim: window handle payload: %w", err)
	}
	*w = Window(n)
	return nil
}

func (t Tabpage) MarshalMsgpack() ([]byte, error) { return msgpack.Marshal(int64(t)) }

func (t *Tabpage) UnmarshalMsgpack(data []byte) error {
	var n int64
	if err := msgpack.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("nvim: tabpage handle payload: %w", err)
	}
	*t = Tabpage(n)
	return nil
}

func init() {
	msgpack.RegisterExt(bufferExtID, (*Buffer)(nil))
	msgpack.RegisterExt(windowExtID, (*Window)(nil))
	msgpack.RegisterExt(tabpageExtID, (*Tabpage)(nil))
}
