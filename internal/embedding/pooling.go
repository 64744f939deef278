package embedding

import (
	"github.com/hyperjump/zake/pkg/utils"
)

// Pool reduces hidden states of one sequence, laid out as seqLen rows of dim
// values, to a single vector. mask marks real tokens with 1.
func Pool(hidden []float32, mask []int64, seqLen, dim int, opts PipelineOptions) ([]float32, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	out := make([]float32, dim)
	switch opts.Pooling {
	case PoolingCLS, PoolingNone:
		copy(out, hidden[:dim])
	case PoolingMean:
		var count float32
		for t := 0; t < seqLen; t++ {
			if t < len(mask) && mask[t] == 0 {
				continue
			}
			row := hidden[t*dim : (t+1)*dim]
			for i, v := range row {
				out[i] += v
			}
			count++
		}
		if count > 0 {
			for i := range out {
				out[i] /= count
			}
		}
	}
	if opts.Normalize {
		utils.NormalizeL2(out)
	}
	return out, nil
}

// PoolBatch applies Pool to each sequence of a [batch, seqLen, dim] tensor.
func PoolBatch(hidden []float32, mask []int64, batch, seqLen, dim int, opts PipelineOptions) ([][]float32, error) {
	out := make([][]float32, batch)
	stride := seqLen * dim
	for b := 0; b < batch; b++ {
		v, err := Pool(hidden[b*stride:(b+1)*stride], mask[b*seqLen:(b+1)*seqLen], seqLen, dim, opts)
		if err != nil {
			return nil, err
		}
		out[b] = v
	}
	return out, nil
}
