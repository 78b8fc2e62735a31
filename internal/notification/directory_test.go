package notification

import (
	"fmt"
	"sync"
	"testing"
)

// fakeConn はテスト用の接続ハンドル。受け取ったフレームを記録する。
type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func connIDs(conns []Conn) map[string]bool {
	ids := make(map[string]bool, len(conns))
	for _, c := range conns {
		ids[c.ID()] = true
	}
	return ids
}

// TestDirectory_Register は登録を検証する。
func TestDirectory_Register(t *testing.T) {
	t.Parallel()

	t.Run("1つのアイデンティティに複数の接続を登録できること", func(t *testing.T) {
		t.Parallel()

		d := NewDirectory(4)
		d.Register("Emp001", newFakeConn("tab-1"))
		d.Register("Emp001", newFakeConn("tab-2"))

		ids := connIDs(d.ConnectionsFor("Emp001"))
		if len(ids) != 2 || !ids["tab-1"] || !ids["tab-2"] {
			t.Errorf("ConnectionsFor() = %v", ids)
		}
	})

	t.Run("同じ組み合わせの再登録は重複しないこと", func(t *testing.T) {
		t.Parallel()

		d := NewDirectory(4)
		c := newFakeConn("tab-1")
		d.Register("Emp001", c)
		d.Register("Emp001", c)

		if got := len(d.ConnectionsFor("Emp001")); got != 1 {
			t.Errorf("接続数 = %d, want 1", got)
		}
		if st := d.Stats(); st.Connections != 1 || st.Identities != 1 {
			t.Errorf("Stats() = %+v", st)
		}
	})

	t.Run("別のアイデンティティで再登録すると付け替えられること", func(t *testing.T) {
		t.Parallel()

		d := NewDirectory(4)
		c := newFakeConn("tab-1")
		d.Register("Emp001", c)
		d.Register("Emp002", c)

		if got := len(d.ConnectionsFor("Emp001")); got != 0 {
			t.Errorf("旧アイデンティティの接続数 = %d, want 0", got)
		}
		if got := len(d.ConnectionsFor("Emp002")); got != 1 {
			t.Errorf("新アイデンティティの接続数 = %d, want 1", got)
		}
	})

	t.Run("シャード数0以下では既定値が使われること", func(t *testing.T) {
		t.Parallel()

		if got := NewDirectory(0).Stats().Shards; got != defaultShards {
			t.Errorf("Shards = %d, want %d", got, defaultShards)
		}
	})
}

// TestDirectory_Deregister は登録解除を検証する。
func TestDirectory_Deregister(t *testing.T) {
	t.Parallel()

	t.Run("解除した接続だけが取り除かれること", func(t *testing.T) {
		t.Parallel()

		d := NewDirectory(4)
		c1, c2 := newFakeConn("tab-1"), newFakeConn("tab-2")
		d.Register("Emp001", c1)
		d.Register("Emp001", c2)

		identity, ok := d.Deregister(c1)
		if !ok || identity != "Emp001" {
			t.Errorf("Deregister() = (%q, %v), want (Emp001, true)", identity, ok)
		}
		ids := connIDs(d.ConnectionsFor("Emp001"))
		if len(ids) != 1 || !ids["tab-2"] {
			t.Errorf("ConnectionsFor() = %v", ids)
		}
	})

	t.Run("未登録の接続の解除は何もしないこと", func(t *testing.T) {
		t.Parallel()

		d := NewDirectory(4)
		d.Register("Emp001", newFakeConn("tab-1"))
		if _, ok := d.Deregister(newFakeConn("unknown")); ok {
			t.Error("未登録の接続の解除がtrueを返した")
		}
		if st := d.Stats(); st.Connections != 1 {
			t.Errorf("Stats() = %+v", st)
		}
	})

	t.Run("最後の接続を解除するとアイデンティティも消えること", func(t *testing.T) {
		t.Parallel()

		d := NewDirectory(4)
		c := newFakeConn("tab-1")
		d.Register("Emp001", c)
		d.Deregister(c)

		if st := d.Stats(); st.Identities != 0 || st.Connections != 0 {
			t.Errorf("Stats() = %+v", st)
		}
		if conns := d.ConnectionsFor("Emp001"); conns == nil || len(conns) != 0 {
			t.Errorf("ConnectionsFor() = %#v, want empty non-nil", conns)
		}
	})
}

// TestDirectory_Concurrent は並行な登録・解除・参照を検証する。
// go test -race で実行することを想定している。
func TestDirectory_Concurrent(t *testing.T) {
	t.Parallel()

	t.Run("並行に登録と解除を繰り返しても整合性が保たれること", func(t *testing.T) {
		t.Parallel()

		d := NewDirectory(8)
		const identities = 50
		const perIdentity = 4

		var wg sync.WaitGroup
		for i := range identities {
			for j := range perIdentity {
				wg.Add(1)
				go func() {
					defer wg.Done()
					identity := fmt.Sprintf("Emp%03d", i)
					c := newFakeConn(fmt.Sprintf("%s-%d", identity, j))
					d.Register(identity, c)
					_ = d.ConnectionsFor(identity)
					_ = d.All()
					if j%2 == 0 {
						d.Deregister(c)
					}
				}()
			}
		}
		wg.Wait()

		st := d.Stats()
		if st.Identities != identities {
			t.Errorf("Identities = %d, want %d", st.Identities, identities)
		}
		if st.Connections != identities*perIdentity/2 {
			t.Errorf("Connections = %d, want %d", st.Connections, identities*perIdentity/2)
		}
		if got := len(d.All()); got != st.Connections {
			t.Errorf("All()の件数 = %d, want %d", got, st.Connections)
		}
	})
}
