// Package workset 维护内存中的候选工作集：按 (地址, 端口) 去重并保持插入顺序。
package workset

import (
	"sync"
	"time"

	"proxyharvest/proxypool/model"
)

// Status 是工作集中条目的验证状态。
type Status string

const (
	StatusUnchecked Status = "unchecked"
	StatusValid     Status = "valid"
	StatusInvalid   Status = "invalid"
)

// Entry 是工作集中的一行。
type Entry struct {
	model.Candidate
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency"`

	// Location 是显示用的地理位置文本，未查询时为空。
	Location string `json:"location,omitempty"`
}

// Stats 对应状态栏中的统计信息。
type Stats struct {
	Total     int `json:"total"`
	SOCKS5    int `json:"socks5"`
	HTTP      int `json:"http"`
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Unchecked int `json:"unchecked"`
}

// Set 是并发安全的有序去重集合。
// 唯一键为 (Address, Port)，协议不参与比较；同一端点以首次出现的协议为准。
type Set struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[model.Endpoint]int
}

func New() *Set {
	return &Set{index: make(map[model.Endpoint]int)}
}

// Add 插入单个候选，已存在时返回 false。
func (s *Set) Add(c model.Candidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(c)
}

func (s *Set) addLocked(c model.Candidate) bool {
	key := c.Key()
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, Entry{Candidate: c, Status: StatusUnchecked})
	return true
}

// Merge 追加所有未出现过的候选，返回新增数量。重复合并同一批次返回 0。
func (s *Set) Merge(cands []model.Candidate) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, c := range cands {
		if s.addLocked(c) {
			added++
		}
	}
	return added
}

// Contains reports whether an endpoint is present, regardless of kind.
func (s *Set) Contains(e model.Endpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[e]
	return ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot 按插入顺序返回所有条目的副本。
func (s *Set) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Candidates 返回候选列表；kind 为空时返回全部，否则只返回该协议的条目。
func (s *Set) Candidates(kind model.Kind) []model.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Candidate, 0, len(s.entries))
	for _, e := range s.entries {
		if kind == "" || e.Kind == kind {
			out = append(out, e.Candidate)
		}
	}
	return out
}

// Annotate 根据验证结果更新条目状态，条目不存在时返回 false。
func (s *Set) Annotate(r model.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[r.Key()]
	if !ok {
		return false
	}
	if r.Functional {
		s.entries[i].Status = StatusValid
	} else {
		s.entries[i].Status = StatusInvalid
	}
	s.entries[i].Latency = r.Latency
	return true
}

// AnnotateLocation 记录条目的地理位置，条目不存在时返回 false。验证状态不受影响。
func (s *Set) AnnotateLocation(e model.Endpoint, location string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[e]
	if !ok {
		return false
	}
	s.entries[i].Location = location
	return true
}

// Retain 只保留 keep 返回 true 的条目，返回被移除的数量。
func (s *Set) Retain(keep func(Entry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	removed := len(s.entries) - len(kept)
	// 清掉尾部残留，避免持有旧数据
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = Entry{}
	}
	s.entries = kept
	s.reindexLocked()
	return removed
}

// Replace 清空工作集后重新载入 entries（例如从存储中加载）。
func (s *Set) Replace(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.index = make(map[model.Endpoint]int, len(entries))
	for _, e := range entries {
		if _, ok := s.index[e.Key()]; ok {
			continue
		}
		if e.Status == "" {
			e.Status = StatusUnchecked
		}
		s.index[e.Key()] = len(s.entries)
		s.entries = append(s.entries, e)
	}
}

func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.index = make(map[model.Endpoint]int)
}

func (s *Set) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Total: len(s.entries)}
	for _, e := range s.entries {
		switch e.Kind {
		case model.KindSOCKS5:
			st.SOCKS5++
		case model.KindHTTP:
			st.HTTP++
		}
		switch e.Status {
		case StatusValid:
			st.Valid++
		case StatusInvalid:
			st.Invalid++
		default:
			st.Unchecked++
		}
	}
	return st
}

func (s *Set) reindexLocked() {
	s.index = make(map[model.Endpoint]int, len(s.entries))
	for i, e := range s.entries {
		s.index[e.Key()] = i
	}
}
