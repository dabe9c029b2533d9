package main

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

func printStatus(s *structpb.Struct) {
	m := s.AsMap()
	fmt.Println("\n=== JUKEBOX STATUS ===")
	fmt.Printf("State: %v\n", m["state"])
	fmt.Printf("Index: %v / %v\n", m["index"], m["count"])
	fmt.Printf("Volume: %.2f\n", number(m["volume"]))

	if item, ok := m["item"].(map[string]any); ok {
		fmt.Println("\nCurrent Item:")
		printItem("  ", item)
		if pos, ok := m["position_sec"]; ok {
			fmt.Printf("  Position: %s", seconds(pos))
			if d, ok := m["duration_sec"]; ok {
				fmt.Printf(" / %s", seconds(d))
			}
			fmt.Println()
		}
	} else {
		fmt.Println("\nNo current item")
	}

	if items, ok := m["items"].([]any); ok && len(items) > 0 {
		fmt.Println("\nQueue:")
		current := int(number(m["index"]))
		for i, raw := range items {
			item, _ := raw.(map[string]any)
			marker := " "
			if i == current {
				marker = ">"
			}
			fmt.Printf("%s %3d. %v [%v]\n", marker, i, item["title"], item["load_state"])
		}
	}
	fmt.Println()
}

func printItem(indent string, item map[string]any) {
	fmt.Printf("%sTitle: %v\n", indent, item["title"])
	if v, ok := item["artist"]; ok {
		fmt.Printf("%sArtist: %v\n", indent, v)
	}
	if v, ok := item["album"]; ok {
		fmt.Printf("%sAlbum: %v\n", indent, v)
	}
	fmt.Printf("%sLocator: %v\n", indent, item["locator"])
	fmt.Printf("%sLoad State: %v\n", indent, item["load_state"])
}

func printEvent(s *structpb.Struct) {
	m := s.AsMap()
	switch m["type"] {
	case "status":
		if st, ok := m["status"].(map[string]any); ok {
			fmt.Printf("[status] state=%v index=%v count=%v\n", st["state"], st["index"], st["count"])
		}
	default:
		line := fmt.Sprintf("[%v] #%v state=%v index=%v", m["type"], m["seq"], m["state"], m["index"])
		if item, ok := m["item"].(map[string]any); ok {
			line += fmt.Sprintf(" title=%v", item["title"])
		}
		fmt.Println(line)
	}
}

func number(v any) float64 {
	f, _ := v.(float64)
	return f
}

func seconds(v any) string {
	return time.Duration(number(v) * float64(time.Second)).Truncate(time.Second).String()
}
