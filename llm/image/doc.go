// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 image 提供图片结果的后处理能力。

后端返回的图片既可能是可直接访问的 URL，也可能是内联的 data URL。
调度层在拿到 data URL 时调用 [Uploader] 把它转换成持久 URL；上传失败
视为本次尝试失败。

  - [PassthroughUploader]：原样返回，默认实现
  - [HTTPUploader]：把图片字节 POST 到上传服务，读取返回的 URL
  - [ParseDataURL] / [EncodeDataURL]：data URL 编解码
*/
package image
