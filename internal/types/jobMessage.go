package types

// VariantJob asks a worker to derive the named variants from Source.
type VariantJob struct {
	Id        string            `json:"id"`
	UserId    string            `json:"userId"`
	Source    string            `json:"source"`
	Variants  []string          `json:"variants"`
	Tags      map[string]string `json:"tags"`
	CreatedAt string            `json:"createdAt"`
}

type RabbitMQMessage struct {
	Pattern string     `json:"pattern"`
	Data    VariantJob `json:"data"`
}
