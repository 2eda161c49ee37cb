// Package queue carries inbound events between an ingestion front end and
// the gateway over watermill.
//
// Two backends are available. Memory uses watermill's gochannel pub/sub and
// suits a single process. Redis uses Redis Streams with a consumer group, so
// several gateway replicas share one stream and each event is consumed once.
//
// Events travel as JSON with the channel id in the partition_key metadata.
// A consumer acks every message after handing it to the Ingester; payloads
// that fail to decode are acked and dropped so they never block the stream.
package queue
