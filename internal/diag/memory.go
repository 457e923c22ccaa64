package diag

import rtmetrics "runtime/metrics"

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// HeapInUseBytes reports live heap object bytes without stopping the world.
func HeapInUseBytes() uint64 {
	samples := []rtmetrics.Sample{{Name: heapObjectsMetric}}
	rtmetrics.Read(samples)
	if samples[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return samples[0].Value.Uint64()
}

// HeapInUseMB is HeapInUseBytes in mebibytes.
func HeapInUseMB() float64 {
	return float64(HeapInUseBytes()) / (1 << 20)
}
