package notification

import (
	"hash/fnv"
	"sync"
)

// defaultShards はシャード数が指定されなかった場合の既定値。
const defaultShards = 32

// Conn は通知を受け取る接続ハンドル。
// Sendは呼び出し元をブロックしてはならない。
type Conn interface {
	// ID は接続ごとに一意な識別子を返す。
	ID() string
	// Send はエンコード済みのフレームを送信キューに積む。
	Send(frame []byte) error
}

// Registry はアイデンティティと接続の対応表。
// Hubはこのインターフェース越しに配信先を引く。
type Registry interface {
	Register(identity string, conn Conn)
	Deregister(conn Conn) (string, bool)
	ConnectionsFor(identity string) []Conn
	All() []Conn
	Stats() Stats
}

var _ Registry = (*Directory)(nil)

// identityShard はアイデンティティから接続集合への対応の一部を保持する。
type identityShard struct {
	mu    sync.RWMutex
	conns map[string]map[string]Conn
}

// ownerShard は接続IDから所有アイデンティティへの対応の一部を保持する。
type ownerShard struct {
	mu     sync.Mutex
	owners map[string]string
}

// Directory はアイデンティティと接続ハンドルの並行安全な対応表。
//
// アイデンティティ側と接続ID側をそれぞれFNV-1aでシャードに分け、
// 全体を覆うロックを持たない。両方のロックを取る場合は
// 接続ID側、アイデンティティ側の順に取得する。
type Directory struct {
	identities []identityShard
	owners     []ownerShard
}

// Stats はDirectoryの登録状況。
type Stats struct {
	// Identities は接続を1つ以上持つアイデンティティ数。
	Identities int `json:"identities"`
	// Connections は登録されている接続数。
	Connections int `json:"connections"`
	// Shards はシャード数。
	Shards int `json:"shards"`
}

// NewDirectory はshards個のシャードを持つDirectoryを生成する。
// 0以下を指定した場合は既定値を使う。
func NewDirectory(shards int) *Directory {
	if shards <= 0 {
		shards = defaultShards
	}
	d := &Directory{
		identities: make([]identityShard, shards),
		owners:     make([]ownerShard, shards),
	}
	for i := range shards {
		d.identities[i].conns = make(map[string]map[string]Conn)
		d.owners[i].owners = make(map[string]string)
	}
	return d
}

func (d *Directory) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.identities)))
}

func (d *Directory) identityShard(identity string) *identityShard {
	return &d.identities[d.shardIndex(identity)]
}

func (d *Directory) ownerShard(connID string) *ownerShard {
	return &d.owners[d.shardIndex(connID)]
}

// Register はidentityにconnを登録する。
// 同じ組み合わせの再登録は何もしない。別のアイデンティティに登録済みの接続は付け替える。
func (d *Directory) Register(identity string, conn Conn) {
	id := conn.ID()
	own := d.ownerShard(id)
	own.mu.Lock()
	defer own.mu.Unlock()

	if prev, ok := own.owners[id]; ok {
		if prev == identity {
			return
		}
		d.removeLocked(prev, id)
	}
	own.owners[id] = identity

	is := d.identityShard(identity)
	is.mu.Lock()
	defer is.mu.Unlock()
	set, ok := is.conns[identity]
	if !ok {
		set = make(map[string]Conn)
		is.conns[identity] = set
	}
	set[id] = conn
}

// Deregister は接続の登録を解除し、所有していたアイデンティティを返す。
// 未登録の接続に対しては何もせずfalseを返す。
func (d *Directory) Deregister(conn Conn) (string, bool) {
	id := conn.ID()
	own := d.ownerShard(id)
	own.mu.Lock()
	defer own.mu.Unlock()

	identity, ok := own.owners[id]
	if !ok {
		return "", false
	}
	delete(own.owners, id)
	d.removeLocked(identity, id)
	return identity, true
}

// removeLocked はアイデンティティ側の登録を削除する。
// 呼び出し元は接続IDのownerShardのロックを保持していること。
func (d *Directory) removeLocked(identity, connID string) {
	is := d.identityShard(identity)
	is.mu.Lock()
	defer is.mu.Unlock()
	set, ok := is.conns[identity]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(is.conns, identity)
	}
}

// ConnectionsFor はidentityに登録された接続のスナップショットを返す。
// 接続がなければ空スライスを返す。
func (d *Directory) ConnectionsFor(identity string) []Conn {
	is := d.identityShard(identity)
	is.mu.RLock()
	defer is.mu.RUnlock()

	set := is.conns[identity]
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// All は登録されている全接続のスナップショットを返す。
// シャードごとに読み取るため、並行する登録・解除は反映されない場合がある。
func (d *Directory) All() []Conn {
	var conns []Conn
	for i := range d.identities {
		is := &d.identities[i]
		is.mu.RLock()
		for _, set := range is.conns {
			for _, c := range set {
				conns = append(conns, c)
			}
		}
		is.mu.RUnlock()
	}
	return conns
}

// Stats は登録状況を集計する。
func (d *Directory) Stats() Stats {
	st := Stats{Shards: len(d.identities)}
	for i := range d.identities {
		is := &d.identities[i]
		is.mu.RLock()
		st.Identities += len(is.conns)
		for _, set := range is.conns {
			st.Connections += len(set)
		}
		is.mu.RUnlock()
	}
	return st
}
