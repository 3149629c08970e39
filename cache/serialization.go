// Copyright 2025 EntoMLgist Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// Entry is one cached upstream response. Entries are immutable once written;
// a refetch after expiry replaces the whole entry.
type Entry struct {
	FetchedAt time.Time
	Payload   []byte
}

// EntryMUS serializes Entry in MUS format. The timestamp is stored as a
// unix-micro varint, the payload as a length-prefixed string.
var EntryMUS = entryMUS{}

type entryMUS struct{}

func (s entryMUS) Marshal(v Entry, bs []byte) (n int) {
	n = varint.Int64.Marshal(v.FetchedAt.UnixMicro(), bs)
	n += ord.String.Marshal(string(v.Payload), bs[n:])
	return
}

func (s entryMUS) Unmarshal(bs []byte) (v Entry, n int, err error) {
	micro, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return
	}
	v.FetchedAt = time.UnixMicro(micro).UTC()

	var (
		payload string
		n1      int
	)
	payload, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Payload = []byte(payload)
	return
}

func (s entryMUS) Size(v Entry) (size int) {
	size = varint.Int64.Size(v.FetchedAt.UnixMicro())
	size += ord.String.Size(string(v.Payload))
	return
}

// MarshalEntry serializes an Entry to bytes.
func MarshalEntry(entry *Entry) []byte {
	buf := make([]byte, EntryMUS.Size(*entry))
	EntryMUS.Marshal(*entry, buf)
	return buf
}

// UnmarshalEntry deserializes an Entry from bytes.
func UnmarshalEntry(data []byte) (*Entry, error) {
	entry, _, err := EntryMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
