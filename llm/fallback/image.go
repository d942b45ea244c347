package fallback

import (
	"context"
	"fmt"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/image"
	"github.com/BaSui01/aifallback/types"
)

// GenerateImage 按降级顺序生成图片。
//
// 降级顺序中只要有一个已登记的后端不具备图片能力，就在任何尝试之前
// 返回 CONFIGURATION 错误。后端返回 data URL 时交给 Uploader 处理，
// 上传失败视为本次尝试失败。
func (d *Dispatcher) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if err := d.checkImageOrder(req.Options); err != nil {
		return nil, err
	}

	ctx, p := d.newPlan(ctx, llm.OpImage, req.Options)
	url, res, err := runOneShot(ctx, d, p, func(ctx context.Context, prov llm.Provider, model string) (string, types.Usage, error) {
		resp, err := prov.GenerateImage(ctx, &llm.ImageRequest{
			Model:           model,
			Prompt:          req.Prompt,
			ReferenceImages: req.ReferenceImages,
			Size:            req.Size,
		})
		if err != nil {
			return "", types.Usage{}, err
		}
		if !image.IsDataURL(resp.ImageURL) {
			return resp.ImageURL, resp.Usage, nil
		}
		uploaded, err := d.uploader.Upload(ctx, resp.ImageURL)
		if err != nil {
			return "", resp.Usage, err
		}
		return uploaded, resp.Usage, nil
	})
	if err != nil {
		return nil, err
	}
	return &ImageResult{Result: res, ImageURL: url}, nil
}

func (d *Dispatcher) checkImageOrder(o Options) error {
	order := o.Order
	if len(order) == 0 {
		order = d.defaults.Order
	}
	for _, id := range order {
		caps, ok := d.registry.Capabilities(id)
		if ok && !caps.Image {
			return types.NewConfigurationError(fmt.Sprintf("backend %q does not support image generation", id)).
				WithProvider(id)
		}
	}
	return nil
}
