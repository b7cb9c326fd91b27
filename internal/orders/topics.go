package orders

const TopicOrderPlaced = "order.placed"

// Partition key = order_id, supaya event untuk 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
