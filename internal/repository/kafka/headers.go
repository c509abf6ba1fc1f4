package kafka

import "github.com/segmentio/kafka-go"

// headerCarrier adapts otel propagation to kafka message headers.
type headerCarrier map[string]string

func (m headerCarrier) Get(k string) string { return m[k] }
func (m headerCarrier) Set(k, v string)     { m[k] = v }
func (m headerCarrier) Keys() []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	return ks
}

func (m headerCarrier) toKafka(extra ...kafka.Header) []kafka.Header {
	hs := make([]kafka.Header, 0, len(m)+len(extra))
	for k, v := range m {
		hs = append(hs, kafka.Header{Key: k, Value: []byte(v)})
	}
	return append(hs, extra...)
}

// HeadersCarrier reads trace context back out of received headers.
type HeadersCarrier []kafka.Header

func (h HeadersCarrier) Get(k string) string {
	for _, x := range h {
		if x.Key == k {
			return string(x.Value)
		}
	}
	return ""
}
func (h HeadersCarrier) Set(string, string) {}
func (h HeadersCarrier) Keys() []string {
	ks := make([]string, 0, len(h))
	for _, x := range h {
		ks = append(ks, x.Key)
	}
	return ks
}
