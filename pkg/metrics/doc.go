// Package metrics provides MetricSink implementations for training scalars.
//
// Sinks can be combined with Multi:
//
//	file, _ := metrics.OpenScalarFile("runs/exp/scalars.jsonl")
//	prom := metrics.NewPrometheusSink()
//	sink := metrics.Multi{metrics.NewLogSink(nil), file, prom}
//	defer sink.Close()
//
// PrometheusSink exports rgbdtrain_scalar{name} and
// rgbdtrain_scalar_index{name}; Serve exposes them over HTTP.
package metrics
