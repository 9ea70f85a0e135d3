package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"afiyahmed-client-go/src/configs"
	"afiyahmed-client-go/src/core/diagnosis"
	coreimage "afiyahmed-client-go/src/core/image"
	"afiyahmed-client-go/src/core/lifecycle"
	"afiyahmed-client-go/src/core/picker"
	"afiyahmed-client-go/src/core/utils"
	"afiyahmed-client-go/src/task"
)

// 手动提交一次诊断请求，走完整流水线：转码 → 构造 → 发送 → 规范化
// 用法: go run test/submit.go -image skin.jpg -symptoms "红疹瘙痒三天"
func main() {
	imagePath := flag.String("image", "", "图片文件路径")
	symptoms := flag.String("symptoms", "", "症状描述")
	flag.Parse()

	fmt.Println("=== 诊断提交测试 ===")

	config, path, err := configs.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("使用配置文件: %s", path)
	log.Printf("诊断服务地址: %s", config.Service.BaseURL)

	logger, err := utils.NewLogger(config)
	if err != nil {
		log.Fatalf("创建日志记录器失败: %v", err)
	}
	defer logger.Close()

	raw, err := picker.FromFile(*imagePath)
	if err != nil {
		log.Fatalf("读取图片失败: %v", err)
	}
	fmt.Printf("图片大小: %d 字节\n", len(raw.Bytes))

	transcoder := coreimage.NewTranscoder(&config.Image, logger)
	client := diagnosis.NewClient(config.Service.BaseURL, config.RequestTimeout(), logger)

	taskManager := task.NewTaskManager(task.ResourceConfig{MaxWorkers: config.Task.MaxWorkers})
	taskManager.Start()
	defer taskManager.Stop()

	controller := lifecycle.NewController(context.Background(), transcoder, client, taskManager, logger, nil)
	stateChan := controller.Subscribe()
	defer controller.Unsubscribe(stateChan)

	start := time.Now()
	if _, accepted := controller.Submit(*symptoms, raw); !accepted {
		log.Fatal("提交被拒绝")
	}

	deadline := time.After(config.RequestTimeout() + 30*time.Second)
	for {
		select {
		case state := <-stateChan:
			fmt.Printf("状态: %s\n", state.Phase)
			if state.Phase != lifecycle.PhaseCompleted {
				continue
			}
			fmt.Printf("耗时: %v\n", time.Since(start))
			printOutcome(state.Outcome)
			return
		case <-deadline:
			log.Fatal("等待诊断结果超时")
		}
	}
}

func printOutcome(outcome *diagnosis.DiagnosisOutcome) {
	if outcome == nil {
		fmt.Println("✗ Completed状态缺少结果")
		return
	}

	switch outcome.Kind {
	case diagnosis.ResultSuccess:
		fmt.Println("✓ 诊断成功")
		for i, d := range outcome.Report.TopDiseases {
			fmt.Printf("  %d. %s (置信度 %.1f%%)\n", i+1, d.Name, d.ConfidencePercent)
		}
		fmt.Printf("  紧急程度: %s (%s)\n", outcome.Report.Urgency, outcome.Report.UrgencyLevel)
		fmt.Printf("  解释: %s\n", outcome.Report.Explanation)
		for _, step := range outcome.Report.Steps {
			fmt.Printf("  建议: %s\n", step)
		}
	case diagnosis.ResultPlainMessage:
		fmt.Println("✓ 服务端返回文本结果")
		fmt.Printf("  %s\n", outcome.Message)
	case diagnosis.ResultFailure:
		fmt.Printf("✗ 诊断失败: %s\n", outcome.Failure.Kind)
		fmt.Printf("  %s\n", outcome.Failure.Detail)
	}

	data, _ := json.MarshalIndent(outcome, "", "  ")
	fmt.Printf("\n完整结果:\n%s\n", data)
}
