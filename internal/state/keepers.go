package state

import "sort"

// KeeperRegistry is the allow-list of endorsed liquidators
type KeeperRegistry struct {
	endorsed map[string]struct{}
}

func NewKeeperRegistry() *KeeperRegistry {
	return &KeeperRegistry{endorsed: make(map[string]struct{})}
}

func (kr *KeeperRegistry) SetEndorsed(address string, endorsed bool) {
	if endorsed {
		kr.endorsed[address] = struct{}{}
		return
	}
	delete(kr.endorsed, address)
}

func (kr *KeeperRegistry) IsEndorsed(address string) bool {
	_, ok := kr.endorsed[address]
	return ok
}

// Endorsed returns the sorted allow-list
func (kr *KeeperRegistry) Endorsed() []string {
	result := make([]string, 0, len(kr.endorsed))
	for addr := range kr.endorsed {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result
}
