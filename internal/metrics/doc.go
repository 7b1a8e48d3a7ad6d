// Package metrics samples the two signals the control loop scales on: host
// CPU usage and the depth of the work queue.
//
// CPU comes from the local host ([HostSampler], via gopsutil) or from a
// Prometheus server ([PrometheusSampler]). Queue depth comes from Amazon SQS
// ([SQSSource]) or a Redis list ([RedisSource]); [NewQueueSource] picks one
// from the queue URL scheme.
//
// Samplers never cache: every call takes a fresh measurement.
package metrics
