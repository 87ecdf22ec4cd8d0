package detector

import "sort"

// NMS performs Non-Maximum Suppression on detected boxes
func NMS(boxes []FaceBox, iouThreshold float32) []FaceBox {
	if len(boxes) == 0 {
		return boxes
	}

	// Sort by score (descending)
	sort.Slice(boxes, func(i, j int) bool {
		return boxes[i].Score > boxes[j].Score
	})

	keep := make([]bool, len(boxes))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(boxes); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(boxes); j++ {
			if !keep[j] {
				continue
			}
			if IoU(boxes[i], boxes[j]) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]FaceBox, 0, len(boxes))
	for i, box := range boxes {
		if keep[i] {
			result = append(result, box)
		}
	}

	return result
}

// IoU calculates Intersection over Union of two boxes
func IoU(a, b FaceBox) float32 {
	x1 := max(a.XMin, b.XMin)
	y1 := max(a.YMin, b.YMin)
	x2 := min(a.XMax, b.XMax)
	y2 := min(a.YMax, b.YMax)

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}
