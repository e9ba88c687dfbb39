package event

import "fmt"

// KeeperEndorsementUpdated adds or removes an address from the endorsed-keeper allow-list
type KeeperEndorsementUpdated struct {
	Address   string `json:"address"`
	Endorsed  bool   `json:"endorsed"`
	Timestamp int64  `json:"timestamp"`
}

func (k *KeeperEndorsementUpdated) IdempotencyKey() string {
	return fmt.Sprintf("keeper:%s:%t:%d", k.Address, k.Endorsed, k.Timestamp)
}

func (k *KeeperEndorsementUpdated) EventType() EventType {
	return EventTypeKeeperEndorsementUpdated
}

func (k *KeeperEndorsementUpdated) MarketID() *string {
	return nil
}

func (k *KeeperEndorsementUpdated) SourceSequence() int64 {
	return 0
}

func (k *KeeperEndorsementUpdated) EventTimestamp() int64 {
	return k.Timestamp
}
