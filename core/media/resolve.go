package media

import (
	"encoding/json"
	"math"

	"Anicut/model"
)

func decodeObject(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func object(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]interface{})
	return v
}

func number(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key].(float64)
	if !ok || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func str(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// ResolveDuration 返回素材的自然时长（毫秒）。
// 依次查找 metadata.duration、output.seconds_total、output.audio.duration（单位均为秒）。
func ResolveDuration(item model.MediaItem) (int64, bool) {
	if sec, ok := number(decodeObject(item.Metadata), "duration"); ok {
		return toMs(sec), true
	}
	output := decodeObject(item.Output)
	if sec, ok := number(output, "seconds_total"); ok {
		return toMs(sec), true
	}
	if sec, ok := number(object(output, "audio"), "duration"); ok {
		return toMs(sec), true
	}
	return 0, false
}

func toMs(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

// ResolveMediaURL 返回素材的可播放地址，找不到时返回空串
func ResolveMediaURL(item model.MediaItem) string {
	if item.Kind == model.MediaKindUploaded {
		return item.URL
	}
	output := decodeObject(item.Output)
	if images, ok := output["images"].([]interface{}); ok && len(images) > 0 {
		if first, ok := images[0].(map[string]interface{}); ok {
			if u := str(first, "url"); u != "" {
				return u
			}
		}
	}
	for _, key := range []string{"image", "video", "audio", "audio_file", "audio_url"} {
		if u := str(object(output, key), "url"); u != "" {
			return u
		}
	}
	return item.URL
}

// KeyframeDataFor 根据素材输入构造关键帧内容：
// 输入带 image_url 时类型为 image，否则为 prompt。
func KeyframeDataFor(item model.MediaItem) model.KeyframeData {
	input := decodeObject(item.Input)
	data := model.KeyframeData{
		Type:    model.KeyframeDataPrompt,
		MediaID: item.ID,
		Prompt:  str(input, "prompt"),
	}
	if _, ok := input["image_url"]; ok {
		data.Type = model.KeyframeDataImage
		data.URL = str(object(input, "image_url"), "url")
		if data.URL == "" {
			data.URL = str(input, "image_url")
		}
	}
	return data
}
