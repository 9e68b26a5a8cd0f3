package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"proxyharvest/internal/shared/logger"
)

// geoAPIResponse defines the structure for the ip-api.com JSON response.
type geoAPIResponse struct {
	Status     string `json:"status"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"` // Province
	City       string `json:"city"`
}

// Location 是一次地理位置查询的结果，查询失败时各字段为空。
type Location struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

func (l Location) Known() bool { return l.Country != "" }

// String 格式化为显示用文本：国内地址显示 "省-市"，其他显示国家名。
func (l Location) String() string {
	if !l.Known() {
		return "unknown"
	}
	if l.Country == "中国" {
		region := strings.TrimSuffix(l.Region, " Sheng")
		region = strings.TrimSuffix(region, " Shi")
		region = strings.TrimSuffix(region, " Zizhiqu")
		city := strings.TrimSuffix(l.City, " Shi")
		if city == "" || city == region {
			return region
		}
		return fmt.Sprintf("%s-%s", region, city)
	}
	return l.Country
}

// Locate queries the geo API for ip. Failures are logged and yield an empty Location.
func (v *Validator) Locate(ctx context.Context, ip string) Location {
	l := logger.WithComponent("ProxyPool/Validator")
	loc := Location{IP: ip}

	apiURL := fmt.Sprintf("%s/%s?fields=status,country,regionName,city&lang=zh-CN",
		strings.TrimSuffix(v.cfg.GeoAPIURL, "/"), url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		l.Warn().Err(err).Str("ip", ip).Msg("Invalid geo API request.")
		return loc
	}
	resp, err := v.geoClient.Do(req)
	if err != nil {
		l.Warn().Err(err).Str("ip", ip).Msg("Geo API request failed.")
		return loc
	}
	defer resp.Body.Close()

	var apiResp geoAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		l.Warn().Err(err).Str("ip", ip).Msg("Failed to decode Geo API response.")
		return loc
	}
	if apiResp.Status != "success" {
		l.Debug().Str("ip", ip).Str("status", apiResp.Status).Msg("Geo API returned non-success status.")
		return loc
	}

	loc.Country = apiResp.Country
	loc.Region = apiResp.RegionName
	loc.City = apiResp.City
	return loc
}
